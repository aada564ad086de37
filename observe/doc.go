// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe carries deskstreamd's observability surface: the
// Prometheus metrics registry, the HTTP router for the health, metrics,
// session listing, and UI-config endpoints, optional Basic
// Auth in front of all of them, and the periodic stats broadcast the
// browser UI renders.
package observe
