package main

import (
	"testing"

	_ "github.com/odyssey-erp/odyssey-workforce/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
