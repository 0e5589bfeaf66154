package main

import (
	"fmt"

	"github.com/AliverAnme/bindiff/pkg/storage"
	"github.com/AliverAnme/bindiff/pkg/storage/jsondb"
	"github.com/AliverAnme/bindiff/pkg/storage/pebbledb"
)

// openStore opens the result store named by backend ("json" or
// "pebbledb") at path, matching the teacher's BackendJSON/BackendPebbleDB
// naming for the same choice.
func openStore(backend, path string) (storage.ResultStore, error) {
	switch backend {
	case "", "json":
		return jsondb.Open(path)
	case "pebbledb":
		return pebbledb.Open(path, pebbledb.DefaultOptions())
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want \"json\" or \"pebbledb\")", backend)
	}
}
