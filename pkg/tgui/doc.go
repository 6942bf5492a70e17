// Package tgui provides small helpers for building Telegram messages in
// HTML parse mode. The H type marks strings that are already escaped so
// rendered fragments can be composed without double-escaping.
package tgui
