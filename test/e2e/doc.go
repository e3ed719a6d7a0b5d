// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package e2e exercises the homeostat daemon and CLI as real processes.
//
// The suite builds cmd/homeostat and cmd/homeostatctl, starts the daemon
// against temporary state/audit/lock directories, and drives it through
// the CLI the way an operator would. Unix only: shutdown is exercised
// with SIGTERM.
package e2e
