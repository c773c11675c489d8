package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"time"

	"Invoke-Chain/internal/api"
	"Invoke-Chain/internal/catalog"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/sdk/go/invokechain"
)

// main runs an in-process API and calls it through the SDK.
func main() {
	functions := catalog.New()
	if err := catalog.RegisterBuiltins(functions); err != nil {
		log.Fatal(err)
	}
	server := api.NewServer(api.Options{}, api.Dependencies{
		Functions: functions,
		Invoker:   invoke.Build(invoke.Builtins(), nil),
	})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := invokechain.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	list, err := client.Functions(ctx)
	if err != nil {
		log.Fatalf("list functions: %v", err)
	}
	for _, fn := range list {
		fmt.Printf("%s %v\n", fn.Name, fn.Params)
	}

	res, err := client.Invoke(ctx, "text.join", invokechain.InvokeRequest{
		Values: map[string]any{"parts": []string{"resolved", "and", "decorated"}},
	})
	if err != nil {
		log.Fatalf("invoke: %v", err)
	}
	var joined string
	if err := res.Decode(&joined); err != nil {
		log.Fatalf("decode: %v", err)
	}
	fmt.Printf("invocation %s returned %q in %dms\n", res.ID, joined, res.DurationMS)
}
