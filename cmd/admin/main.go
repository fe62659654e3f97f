// Command admin inspects a townforge database from the shell.
//
//	admin -db ./data/townforge.db towns
//	admin -db ./data/townforge.db members <town-id>
//	admin -db ./data/townforge.db claims [world]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"townforge/internal/claim"
	"townforge/internal/database"
)

func main() {
	dbPath := flag.String("db", "./data/townforge.db", "database path")
	flag.Parse()

	logger := log.New(os.Stderr, "[admin] ", 0)
	args := flag.Args()
	if len(args) == 0 {
		logger.Fatal("usage: admin -db <path> towns|members <town-id>|claims [world]")
	}

	db, err := database.OpenSQLite(*dbPath)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	switch args[0] {
	case "towns":
		towns, err := db.ListTowns(ctx)
		if err != nil {
			logger.Fatalf("list towns: %v", err)
		}
		for _, t := range towns {
			spawn := "-"
			if t.Spawn != nil {
				spawn = fmt.Sprintf("%s:%s", t.Spawn.World, t.Spawn.Chunk.Key())
			}
			fmt.Printf("%d\t%s\tmayor=%s\tmembers=%d\tbank=%d\tspawn=%s\n",
				t.ID, t.Name, t.Mayor, len(t.Members), t.Bank, spawn)
		}
	case "members":
		if len(args) < 2 {
			logger.Fatal("usage: admin members <town-id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			logger.Fatalf("bad town id %q", args[1])
		}
		t, err := db.GetTown(ctx, id)
		if err != nil {
			logger.Fatalf("get town %d: %v", id, err)
		}
		for uid, privs := range t.Members {
			role := "member"
			if uid == t.Mayor {
				role = "mayor"
			}
			fmt.Printf("%s\t%s\t%v\n", uid, role, privs)
		}
	case "claims":
		worlds, err := db.ListClaimWorlds(ctx)
		if err != nil {
			logger.Fatalf("list claim worlds: %v", err)
		}
		for _, w := range worlds {
			if len(args) > 1 && w.ID != claim.WorldID(args[1]) {
				continue
			}
			for _, c := range w.All() {
				fmt.Printf("%s\t%s\ttown=%d\ttype=%s\tplot_members=%d\n",
					w.ID, c.Chunk.Key(), c.TownID, c.Type, len(c.PlotMembers))
			}
		}
	default:
		logger.Fatalf("unknown command %q", args[0])
	}
}
