// Command healthcheck probes the gRPC health service and exits non-zero when
// the API is not serving. It is meant for container health checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	var (
		addr    = flag.String("addr", envOr("GRPC_ADDR", "localhost:9090"), "gRPC address of the API")
		service = flag.String("service", "", "Service name to check (empty checks the whole server)")
		timeout = flag.Duration("timeout", 3*time.Second, "Probe timeout")
		asJSON  = flag.Bool("json", false, "Print the health response as JSON")
	)
	flag.Parse()

	resp, err := probe(*addr, *service, *timeout)
	if resp != nil && *asJSON {
		out, merr := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(resp)
		if merr == nil {
			fmt.Println(string(out))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		os.Exit(1)
	}
	if !*asJSON {
		fmt.Println(resp.GetStatus())
	}
}

func probe(addr, service string, timeout time.Duration) (*healthpb.HealthCheckResponse, error) {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return resp, fmt.Errorf("status %s", resp.GetStatus())
	}
	return resp, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
