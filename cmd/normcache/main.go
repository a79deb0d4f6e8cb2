// Command normcache is a developer-facing inspection tool for the
// normalized cache: it is not part of the core library and is not
// exercised by the core test suite.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hanpama/normcache/internal/cache"
	"github.com/hanpama/normcache/internal/executor"
	"github.com/hanpama/normcache/internal/schema"
	"github.com/hanpama/normcache/internal/store"
	"github.com/hanpama/normcache/internal/store/boltstore"
	"github.com/hanpama/normcache/internal/store/pebblestore"
)

const rootUsage = `normcache — normalized GraphQL cache inspection tool

USAGE:
  normcache <command> [flags]

COMMANDS:
  inspect   Normalize a JSON fixture and print the resulting record set
  clear     Wipe a backend's persisted records
  help      Show help for any command
`

const inspectUsage = `inspect FLAGS:
  -fixture <file.json>   Fixture with {"query","operationName","variables","data"}
  -schema <file.graphql> GraphQL SDL file (required)
  -key <cacheKey>        Print only this one record instead of the whole set
`

const clearUsage = `clear FLAGS:
  -backend <inmemory|bbolt|pebble>   Backend kind (default: inmemory)
  -path <dir-or-file>                Backend location (required for bbolt/pebble)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("normcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "inspect":
		return cmdInspect(cmdArgs)
	case "clear":
		return cmdClear(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "inspect":
		fmt.Print(inspectUsage)
	case "clear":
		fmt.Print(clearUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type fixture struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Data          map[string]any `json:"data"`
}

func cmdInspect(args []string) error {
	fixturePath := ""
	schemaPath := ""
	key := ""

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&fixturePath, "fixture", fixturePath, "Fixture JSON file")
	fs.StringVar(&schemaPath, "schema", schemaPath, "GraphQL SDL file")
	fs.StringVar(&key, "key", key, "Print only this one record")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, inspectUsage)
		return err
	}
	if fixturePath == "" || schemaPath == "" {
		fmt.Fprint(os.Stderr, inspectUsage)
		return fmt.Errorf("-fixture and -schema are required")
	}

	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	sdl, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	sch, err := schema.BuildFromSDL(schemaPath, string(sdl))
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	query, err := newQueryDocument(fx.Query)
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}

	normalizer := executor.NewNormalizer(sch, nil, nil, fixedNow())
	rs, err := normalizer.Normalize(query, fx.OperationName, fx.Variables, fx.Data)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	if key != "" {
		rec, ok := rs[cache.CacheKey(key)]
		if !ok {
			return fmt.Errorf("no record for key %q", key)
		}
		return printJSON(rec)
	}
	return printJSON(rs)
}

func cmdClear(args []string) error {
	backendKind := "inmemory"
	path := ""

	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&backendKind, "backend", backendKind, "Backend kind")
	fs.StringVar(&path, "path", path, "Backend location")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, clearUsage)
		return err
	}

	ctx := context.Background()
	var backend store.RecordStore
	switch backendKind {
	case "inmemory":
		backend = store.NewInMemoryRecordStore()
	case "bbolt":
		if path == "" {
			return fmt.Errorf("-path is required for the bbolt backend")
		}
		b, err := boltstore.NewBoltRecordStore(path)
		if err != nil {
			return err
		}
		defer b.Close()
		backend = b
	case "pebble":
		if path == "" {
			return fmt.Errorf("-path is required for the pebble backend")
		}
		p, err := pebblestore.NewPebbleRecordStore(path)
		if err != nil {
			return err
		}
		defer p.Close()
		backend = p
	default:
		fmt.Fprint(os.Stderr, clearUsage)
		return fmt.Errorf("unknown backend %q", backendKind)
	}

	if err := backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	fmt.Printf("cleared %s backend\n", backendKind)
	return nil
}

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
