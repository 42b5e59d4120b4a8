package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"AgentHub/sdk/go/agenthub"
)

// 向运行中的 agenthubd 提交任务并等待结果。
func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "agenthubd 地址")
	prompt := flag.String("task", "现在奥斯陆几点？", "要执行的任务")
	conversation := flag.String("conversation", "", "会话 ID")
	flag.Parse()

	client, err := agenthub.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := client.ListAgents(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("strategy=%s agents=%d\n", pool.Strategy, len(pool.Agents))

	submitted, err := client.SubmitTask(ctx, agenthub.TaskSubmission{Task: *prompt, ConversationID: *conversation})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("submitted task %s\n", submitted.ID)

	done, err := client.WaitForTask(ctx, submitted.ID, time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if done.Status != agenthub.StatusSucceeded {
		fmt.Printf("task failed after %d attempts: [%s] %s\n", done.Attempts, done.ErrorCode, done.LastError)
		os.Exit(1)
	}
	fmt.Printf("agent=%s iterations=%d\n%s\n", done.Result.Agent, done.Result.Iterations, done.Result.Content)
}
