package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "create":
		return runCreate(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "export":
		return runExport(args[1:])
	case "delete":
		return runDelete(args[1:])
	case "list":
		return runList(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("auditctl: DeFi wallet audit client")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  auditctl create --wallet 0x... --chains ethereum,polygon --watch")
	fmt.Println("  auditctl export <id> --format csv")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create    submit a wallet audit (--watch to follow it live)")
	fmt.Println("  watch     live report view for an audit (r: refresh, q: quit)")
	fmt.Println("  export    download the CSV or PDF report")
	fmt.Println("  delete    delete an audit on the server and locally")
	fmt.Println("  list      list audits created from this machine")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Settings come from --config <file> or DEFI_AUDIT_CONFIG, overridden by DEFI_AUDIT_* env vars")
	fmt.Println("  - Use --json on create/list for machine-readable output")
}
