// Command inspector re-verifies an exported audit chain offline: it
// recomputes every entry hash from the export file and reports any
// tampering, without needing a running server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/GoLogware/loggate/internal/audit"
)

func main() {
	file := flag.String("file", "", "path to an audit export (json)")
	secret := flag.String("secret", os.Getenv("LOGGATE_AUDIT_SECRET_KEY"), "audit chain secret key")
	flag.Parse()

	if *file == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: inspector -file export.json -secret <key>")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read export: %v\n", err)
		os.Exit(1)
	}

	report, err := audit.VerifyExport(*secret, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse export: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("entries checked: %d\n", report.CheckedEntries)
	if report.RetentionGaps > 0 {
		fmt.Printf("retention gaps: %d\n", report.RetentionGaps)
	}
	if report.IsValid {
		fmt.Println("chain integrity: OK")
		return
	}

	fmt.Printf("chain integrity: BROKEN (%d invalid)\n", len(report.InvalidEntries))
	for _, inv := range report.InvalidEntries {
		fmt.Printf("  [%d] %s: %s\n", inv.Index, inv.EntryID, inv.Reason)
	}
	os.Exit(1)
}
