// Package ratelimit is per-client-IP request throttling for the resource
// listener.
//
// State lives in one process and is never shared. It caps how fast a single
// address can walk the game store and bounds the number of tracked addresses
// so a spray of source IPs cannot grow the table without limit. Distributed
// floods are left to whatever sits in front of the server.
package ratelimit
