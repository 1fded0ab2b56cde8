package main

import (
	"fmt"
	"os"

	"github.com/websecurify/proxify/cmd"
	"github.com/websecurify/proxify/health"
)

func main() {
	config, err := cmd.LoadConfig(cmd.NewFlagSet("healthcheck"), os.Args[1:])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	checker := &health.ProxyChecker{
		Address:       checkAddress(config.Addr),
		ProxyProtocol: config.ProxyProtocol,
		Timeout:       config.CheckTimeout,
	}

	status := checker.Check()
	fmt.Println(status)
	if !status.IsHealthy {
		os.Exit(1)
	}
}

// checkAddress returns the address to dial for a proxy listening on addr.
func checkAddress(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}

	return addr
}
