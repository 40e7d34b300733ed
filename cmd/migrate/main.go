package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/sync/schema"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		rows, err := db.Query(`
			SELECT tablename FROM pg_tables
			WHERE schemaname = 'public'
			  AND (tablename IN ('mailing_lists', 'mailing_list_repositories', 'authors',
			                      'author_name_aliases', 'author_mailing_list_activity', 'sync_jobs',
			                      'emails', 'email_recipients', 'email_references', 'threads',
			                      'thread_memberships')
			       OR tablename LIKE 'emails_p%'
			       OR tablename LIKE 'email_recipients_p%'
			       OR tablename LIKE 'email_references_p%'
			       OR tablename LIKE 'threads_p%'
			       OR tablename LIKE 'thread_memberships_p%')
			ORDER BY tablename
		`)
		if err != nil {
			log.Fatal(err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			rows.Scan(&t)
			fmt.Println(" ", t)
			n++
		}
		fmt.Printf("Total: %d tables\n", n)
		return
	}

	// The partition set is only known at runtime (one per mailing list,
	// created by internal/sync/seed when a list is first seeded), so
	// unlike the old flat-file migration runner, this tool only owns
	// the global schema; partitions are created by seeding, not here.
	if err := schema.EnsureGlobalSchema(context.Background(), db); err != nil {
		log.Fatalf("ensure global schema: %v", err)
	}
	log.Println("Global schema ensured")
}
