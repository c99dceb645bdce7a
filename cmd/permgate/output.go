package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"permgate/internal/domain"
	"permgate/internal/usecase/permission"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	dimColor  = color.New(color.Faint)
)

var stdout io.Writer = os.Stdout

func passMark() string { return passColor.Sprint("[PASS]") }
func failMark() string { return failColor.Sprint("[FAIL]") }
func warnMark() string { return warnColor.Sprint("[WARN]") }

func verdictMark(pass bool) string {
	if pass {
		return passMark()
	}
	return failMark()
}

// printVerdicts writes one line per catalogue entry, in catalogue order.
func printVerdicts(w io.Writer, cat *permission.Catalogue, snap domain.PermissionMap) {
	for _, name := range cat.Names() {
		v, ok := snap[name]
		if !ok {
			fmt.Fprintf(w, "  %s %-14s %s\n", warnMark(), name, dimColor.Sprint("unchecked"))
			continue
		}
		line := fmt.Sprintf("  %s %-14s", verdictMark(v.Pass), name)
		if v.Msg != "" {
			line += " " + v.Msg
		}
		fmt.Fprintln(w, line)
	}
}

// printEligibility writes a feature's result and its failing verdicts.
func printEligibility(w io.Writer, feature string, res domain.EligibilityResult) {
	fmt.Fprintf(w, "  %s %s\n", verdictMark(res.Pass), feature)
	for _, v := range res.Data {
		fmt.Fprintf(w, "      %s\n", dimColor.Sprint(v.Msg))
	}
}
