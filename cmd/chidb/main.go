// Command chidb runs a single SQL statement against a chidb database file.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/chidb-go/chidb"
)

var CLI struct {
	File    string `arg:"" required:"" help:"Path to the database file (created if missing)."`
	SQL     string `arg:"" required:"" help:"A single SQL statement to run."`
	Explain bool   `name:"explain" help:"Print the compiled opcode program instead of running it."`
	Stats   bool   `name:"stats" help:"Print row-count and file-size statistics after running."`
}

func main() {
	kong.Parse(&CLI, kong.Description("Run one SQL statement against a chidb database file."))

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chidb:", err)
		os.Exit(1)
	}
}

func run() error {
	db, err := chidb.Open(CLI.File)
	if err != nil {
		return err
	}
	defer db.Close()

	var stmt *chidb.Stmt
	if CLI.Explain {
		stmt, err = db.PrepareExplain(CLI.SQL)
	} else {
		stmt, err = db.Prepare(CLI.SQL)
	}
	if err != nil {
		return err
	}
	defer stmt.Finalize()

	if CLI.Explain {
		return printExplain(stmt)
	}
	return printRows(stmt)
}

func printExplain(stmt *chidb.Stmt) error {
	fmt.Printf("%-5s %-12s %6s %6s %6s %s\n", "addr", "opcode", "p1", "p2", "p3", "p4")
	for {
		code, err := stmt.Step()
		if err != nil {
			return err
		}
		if code == chidb.CodeDone {
			return nil
		}
		row := stmt.Explain()
		fmt.Printf("%-5d %-12s %6d %6d %6d %s\n", row.Addr, row.Opcode, row.P1, row.P2, row.P3, row.P4)
	}
}

func printRows(stmt *chidb.Stmt) error {
	printedHeader := false
	n := 0
	for {
		code, err := stmt.Step()
		if err != nil {
			return err
		}
		if code == chidb.CodeDone {
			break
		}

		n++
		if !printedHeader && stmt.ColumnCount() > 0 {
			for i := 0; i < stmt.ColumnCount(); i++ {
				if i > 0 {
					fmt.Print("\t")
				}
				fmt.Print(stmt.ColumnName(i))
			}
			fmt.Println()
			printedHeader = true
		}

		for i := 0; i < stmt.ColumnCount(); i++ {
			if i > 0 {
				fmt.Print("\t")
			}
			switch stmt.ColumnType(i) {
			case chidb.RegInt32:
				fmt.Print(stmt.ColumnInt(i))
			case chidb.RegText:
				fmt.Print(stmt.ColumnText(i))
			case chidb.RegNull:
				fmt.Print("NULL")
			}
		}
		if stmt.ColumnCount() > 0 {
			fmt.Println()
		}
	}

	if CLI.Stats {
		info, err := os.Stat(CLI.File)
		if err == nil {
			fmt.Printf("%d row(s), file size %s\n", n, humanize.Bytes(uint64(info.Size())))
		}
	}
	return nil
}
