// Package rib implements the per-neighbor route journal (spec.md section
// 4.7): an append-only sequence of (op, route) events a Protocol drains
// with a resumable cursor, and the diff that turns a "have" route set
// into the event sequence that reaches a "want" route set on reload.
//
// 3.2. Routing Information Base
//
//    The Adj-RIBs-In stores routing information learned from inbound
//    UPDATE messages; the Loc-RIB contains the routes the local speaker
//    selected for its own use; the Adj-RIBs-Out organizes routes for
//    advertisement to a specific peer. This package models the
//    Adj-RIB-Out side only: the per-neighbor outbound journal a Protocol
//    streams from. Received routes surface directly from Peer to the
//    helper-process registry without a persisted Adj-RIB-In, per
//    spec.md's non-goal on RIB persistence.
package rib
