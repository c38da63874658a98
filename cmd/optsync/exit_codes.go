package main

const (
	exitCodeSuccess  = 0
	exitCodeUsage    = 1
	exitCodeStore    = 2
	exitCodeNotFound = 3
)
