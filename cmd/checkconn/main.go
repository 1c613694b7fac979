// Command checkconn verifies the Metronome credentials by listing customers.
// Exits non-zero when the token is missing or the API call fails.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/novaimg/metering-gateway/config"
	"github.com/novaimg/metering-gateway/internal/metronome"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		fmt.Println("  Create .env and set METRONOME_BEARER_TOKEN and DEMO_CUSTOMER_ALIAS")
		os.Exit(1)
	}

	client := metronome.New(cfg.BearerToken, cfg.BaseURL, config.BillableGroupKeys)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	customers, err := client.ListCustomers(ctx)
	if err != nil {
		fmt.Printf("✗ Metronome API request failed: %v\n", err)
		fmt.Println("  Check your token or network and try again")
		os.Exit(1)
	}

	fmt.Println("✓ Connected to Metronome!")
	if len(customers) > 0 {
		fmt.Printf("  First customer: %s\n", customers[0].Name)
	}
}
