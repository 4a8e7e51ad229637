package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"campuschat/pkg/logger"
	"campuschat/pkg/store"
)

// inspect opens a chat database offline and dumps threads or messages as
// JSON lines. Handy for poking at a copied data directory without a server.
func main() {
	var (
		dbPath   = flag.String("db", "", "path to the chat database")
		user     = flag.String("user", "", "list the threads this user participates in")
		thread   = flag.String("thread", "", "dump the messages of this thread")
		since    = flag.String("since", "", "resume cursor for -thread")
		limitVal = flag.Int("limit", 100, "max messages per page for -thread")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "-db required")
		os.Exit(2)
	}
	if *user == "" && *thread == "" {
		fmt.Fprintln(os.Stderr, "one of -user or -thread required")
		os.Exit(2)
	}
	logger.Init("error")

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	enc := json.NewEncoder(os.Stdout)
	switch {
	case *user != "":
		threads, err := st.ThreadsFor(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list threads: %v\n", err)
			os.Exit(1)
		}
		for _, th := range threads {
			_ = enc.Encode(th)
		}
	case *thread != "":
		msgs, next, err := st.ListSince(*thread, *since, *limitVal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list messages: %v\n", err)
			os.Exit(1)
		}
		for _, m := range msgs {
			_ = enc.Encode(m)
		}
		if next != "" {
			fmt.Fprintf(os.Stderr, "next cursor: %s\n", next)
		}
	}
}
