package main

import "github.com/sdko-org/analytics-dashboard/internal/cli"

func main() {
	cli.Execute()
}
