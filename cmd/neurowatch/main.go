// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The neurowatch command is the operations CLI for the Neurowatch stack:
// it seeds the shared clinical corpus and per-patient report indices into
// Weaviate, checks orchestrator and patient status, and inspects the
// session retention audit log.
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
