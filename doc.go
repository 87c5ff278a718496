/*
Package toolbus is a host for external tool servers: it supervises
their processes, speaks a newline-delimited JSON-RPC protocol to them
over stdio, caches their responses, and runs declarative workflows
whose steps call the tools through a single gateway.

# Concept

Tool servers are ordinary child processes. Each one reads requests on
stdin and writes responses on stdout, one JSON object per line. The
host owns the whole lifecycle: spawning, handshake, restart with
backoff when a server dies, and teardown. Callers never talk to a
process directly; everything goes through the gateway, which adds
response caching, an allow-list per server, and lazy startup.

On top of the gateway sits the orchestrator. Workflows are declared in
configuration as ordered steps (with optional parallel groups), each
step names a task executor, and step outputs feed later steps through
"$step.path" input mappings. Executors summarize what they learn;
large intermediate results never cross the executor boundary.

# Usage

Load a configuration and run a workflow:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/toolbus"
		"github.com/aretw0/toolbus/pkg/domain"
	)

	func main() {
		host, err := toolbus.Load("toolbus.yaml")
		if err != nil {
			log.Fatal(err)
		}
		defer host.Close()

		result, err := host.Run(context.Background(), domain.Task{
			Type:  "analyze",
			Input: map[string]any{"path": "."},
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(result.Data)
	}

Individual tools are also reachable directly:

	out, err := host.CallTool(ctx, "files", "list_dir", map[string]any{"path": "."})
*/
package toolbus
