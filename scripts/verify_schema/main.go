package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// verify_schema checks that a SQLite store file carries every table and
// the wallet uniqueness index the core expects.
//
//	go run ./scripts/verify_schema -db ./data/trading.db
func main() {
	path := flag.String("db", "./data/trading.db", "SQLite database file")
	flag.Parse()
	fmt.Printf("Verifying database at: %s\n", *path)

	conn, err := sql.Open("sqlite", *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	missing := 0
	check := func(kind, name string) {
		var n int
		err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "query %s %s: %v\n", kind, name, err)
			os.Exit(1)
		case n == 0:
			fmt.Printf("MISSING %s %s\n", kind, name)
			missing++
		default:
			fmt.Printf("ok      %s %s\n", kind, name)
		}
	}
	for _, table := range []string{"bots", "bot_subscriptions", "bot_performance", "wallets", "orders", "trades"} {
		check("table", table)
	}

	var unique int
	err = conn.QueryRow(`SELECT COUNT(*) FROM pragma_index_list('wallets') WHERE "unique" = 1`).Scan(&unique)
	if err != nil || unique == 0 {
		fmt.Println("MISSING unique (user_id, asset) index on wallets")
		missing++
	}
	if missing > 0 {
		os.Exit(1)
	}
}
