// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components depend on a small stable API (Logger + Field
// helpers) instead of zerolog directly, and so the sink set (console,
// file) can be swapped at startup without touching call sites.
package logx
