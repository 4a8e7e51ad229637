package banner

import (
	"fmt"

	"campuschat/pkg/config"
)

const banner = `
 ██████╗ █████╗ ███╗   ███╗██████╗ ██╗   ██╗███████╗ ██████╗██╗  ██╗ █████╗ ████████╗
██╔════╝██╔══██╗████╗ ████║██╔══██╗██║   ██║██╔════╝██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██║     ███████║██╔████╔██║██████╔╝██║   ██║███████╗██║     ███████║███████║   ██║
██║     ██╔══██║██║╚██╔╝██║██╔═══╝ ██║   ██║╚════██║██║     ██╔══██║██╔══██║   ██║
╚██████╗██║  ██║██║ ╚═╝ ██║██║     ╚██████╔╝███████║╚██████╗██║  ██║██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝     ╚═╝╚═╝      ╚═════╝ ╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult so
// runtime info (config source, relay, keys) is displayed centrally.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/threads/resolve       - Get or create the thread for an item and counterpart")
	fmt.Println("GET  /v1/threads               - List the caller's threads")
	fmt.Println("POST /v1/threads/{id}/messages - Send a message")
	fmt.Println("GET  /v1/threads/{id}/messages - List messages (since/limit)")
	fmt.Println("POST /v1/messages/{id}/seen    - Mark a message seen")
	fmt.Println("PUT  /v1/threads/{id}/typing   - Set typing state")
	fmt.Println("GET  /v1/threads/{id}/ws       - WebSocket event stream")

	fmt.Println("\n== Production? =================================================")
	be, fe, ak := 0, 0, 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
		ak = len(eff.Config.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if eff.Config != nil && eff.Config.Relay.NATSURL != "" {
		fmt.Printf("- Relay: NATS at %s\n", eff.Config.Relay.NATSURL)
	} else {
		fmt.Println("- Relay: disabled")
	}

	if dbPath != "" {
		fmt.Printf("- DB Path: %s\n", dbPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CAMPUSCHAT_DB_PATH)")
	}

	fmt.Println("\n== Logs: =================================================")
}
