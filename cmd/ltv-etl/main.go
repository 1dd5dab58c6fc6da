// Command ltv-etl imports billing charges and rebuilds the monthly cohort
// metrics table.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
