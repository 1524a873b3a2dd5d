package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/remote"
)

// decide records a reviewer decision over gRPC, for scripted approvals and smoke checks.
func main() {
	addr := flag.String("addr", envOr("SYSACCESS_GRPC_TARGET", "localhost:9090"), "gRPC address")
	token := flag.String("token", os.Getenv("SYSACCESS_TOKEN"), "bearer token")
	mode := flag.String("mode", "decision", "decision, override, revoke or health")
	entry := flag.String("entry", "", "system entry id")
	action := flag.String("action", "approve", "approve or reject (decision mode)")
	stage := flag.String("stage", "", "stage to override (override mode)")
	status := flag.String("status", "approved", "approved or rejected (override mode)")
	comment := flag.String("comment", "", "comment")
	version := flag.Int64("version", 0, "expected entry version, 0 to skip the check")
	timeout := flag.Duration("timeout", 10*time.Second, "call timeout")
	flag.Parse()

	ctx, cancel := remote.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := remote.Dial(ctx, *addr, *token)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer client.Close()

	var d remote.Decision
	switch *mode {
	case "health":
		ok, err := client.Healthy(ctx)
		if err != nil {
			log.Fatalf("health: %v", err)
		}
		if !ok {
			log.Fatalf("decisions service at %s is not serving", *addr)
		}
		fmt.Printf("decisions service at %s is serving\n", *addr)
		return
	case "decision":
		d, err = client.Decide(ctx, access.DecisionInput{EntryID: *entry, Action: access.Action(*action), Comment: *comment, Version: *version})
	case "override":
		d, err = client.Override(ctx, access.OverrideInput{EntryID: *entry, Stage: access.Stage(*stage), Status: access.Status(*status), Comment: *comment})
	case "revoke":
		d, err = client.Revoke(ctx, access.RevokeInput{EntryID: *entry, Comment: *comment})
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatalf("%s %s: %v (%s)", *mode, *entry, err, access.Code(err))
	}
	fmt.Printf("entry=%s stage=%s kind=%s stage_status=%s request_status=%s version=%d\n",
		d.EntryID, d.Stage, d.Kind, d.StageStatus, d.RequestStatus, d.Version)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
