// Command smoke checks a running deployment: gRPC health, then a full
// login, me and logout round trip over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	base := flag.String("http", envOr("SCHEDULERS_SMOKE_HTTP", "http://localhost:8080"), "API base URL")
	grpcAddr := flag.String("grpc", envOr("SCHEDULERS_SMOKE_GRPC", "localhost:9090"), "gRPC health address, empty to skip")
	user := flag.String("user", envOr("SCHEDULERS_SMOKE_USER", "admin"), "login username")
	pass := flag.String("password", os.Getenv("SCHEDULERS_SMOKE_PASSWORD"), "login password")
	timeout := flag.Duration("timeout", 10*time.Second, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *grpcAddr != "" {
		checkHealth(ctx, *grpcAddr)
	}
	if *pass == "" {
		log.Fatal("password is required (-password or SCHEDULERS_SMOKE_PASSWORD)")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: *timeout}

	status, _ := call(ctx, client, http.MethodPost, *base+"/v1/auth/login", map[string]string{"username": *user, "password": *pass})
	if status != http.StatusOK {
		log.Fatalf("login: status %d", status)
	}

	status, body := call(ctx, client, http.MethodGet, *base+"/v1/auth/me", nil)
	if status != http.StatusOK {
		log.Fatalf("me: status %d", status)
	}
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		log.Fatalf("decode me: %v", err)
	}

	if status, _ = call(ctx, client, http.MethodPost, *base+"/v1/auth/logout", nil); status != http.StatusOK {
		log.Fatalf("logout: status %d", status)
	}
	if status, _ = call(ctx, client, http.MethodGet, *base+"/v1/auth/me", nil); status != http.StatusUnauthorized {
		log.Fatalf("session still valid after logout: status %d", status)
	}

	fmt.Printf("smoke test passed: principal=%d (%s, %s)\n", me.ID, me.Username, me.Role)
}

func checkHealth(ctx context.Context, addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("health status %s", resp.GetStatus())
	}
}

func call(ctx context.Context, c *http.Client, method, url string, body any) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("encode %s: %v", url, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}
