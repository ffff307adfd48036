package main

import "github.com/memtriage/memtriage/cmd/memtriage"

func main() { memtriage.Execute() }
