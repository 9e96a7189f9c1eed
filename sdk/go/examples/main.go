package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"OpenMCP-Sui/sdk/go/openmcp"
)

func main() {
	baseURL := flag.String("url", envOr("OPENMCP_URL", "http://localhost:8080"), "OpenMCP Sui API base url")
	address := flag.String("address", os.Getenv("OPENMCP_USER_ADDRESS"), "Sui account address")
	message := flag.String("message", "what's my SUI balance?", "message to resolve")
	async := flag.Bool("async", false, "queue the message as a task and poll for the result")
	flag.Parse()

	client, err := openmcp.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("health check: %v", err)
	}
	fmt.Printf("connected to %s %s\n", health.Service, health.Version)

	var resp *openmcp.ChatResponse
	if *async {
		submitted, err := client.SubmitTask(ctx, openmcp.TaskSubmission{Message: *message, UserAddress: *address})
		if err != nil {
			log.Fatalf("submit task: %v", err)
		}
		task, err := client.WaitTask(ctx, submitted.ID, time.Second)
		if err != nil {
			log.Fatalf("wait task: %v", err)
		}
		if task.Status != "succeeded" {
			log.Fatalf("task %s failed: %s (%s)", task.ID, task.LastError, task.ErrorCode)
		}
		resp = task.Result
	} else {
		out, err := client.Chat(ctx, *message, *address)
		if err != nil {
			log.Fatalf("chat: %v", err)
		}
		resp = &out
	}
	if resp == nil {
		log.Fatal("empty response")
	}

	fmt.Printf("[%s] %s\n", resp.State, resp.Message)
	if resp.ReadyToExecute {
		pretty, _ := json.MarshalIndent(resp.TransactionData, "", "  ")
		fmt.Printf("transaction ready for signing:\n%s\n", pretty)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
