package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/coursedb/indexlayer/bptree"
	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
	"github.com/coursedb/indexlayer/extendiblehash"
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("Index Layer Demo: Extendible Hash vs Concurrent B+ Tree")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
	fmt.Println("This demo showcases the two in-memory index structures the buffer")
	fmt.Println("pool manager sits underneath:")
	fmt.Println("  • Extendible Hash: O(1) point lookups, directory doubles on overflow")
	fmt.Println("  • B+ Tree:         ordered keys, range scans, latch-crabbed concurrency")
	fmt.Println()

	demoExtendibleHash()
	fmt.Println()
	demoBPlusTree()
}

func demoExtendibleHash() {
	fmt.Println("\n### Extendible Hash Demo ###")
	fmt.Println(strings.Repeat("-", 40))

	h := extendiblehash.New[int, string](4, func(k int) uint64 { return uint64(k) })
	fmt.Println("✓ Created extendible hash table (bucket size 4)")

	fmt.Println("\n[Writing data]")
	testData := map[int]string{
		1001: "Alice",
		1002: "Bob",
		1003: "Charlie",
		1004: "Dana",
		1005: "Eve",
		1006: "Frank",
	}
	for k, v := range testData {
		h.Insert(k, v)
		fmt.Printf("  INSERT %d -> %s\n", k, v)
	}

	fmt.Println("\n[Reading data]")
	for k := range testData {
		v, ok := h.Find(k)
		if ok {
			fmt.Printf("  FIND %d -> %s\n", k, v)
		}
	}

	fmt.Println("\n[Deleting data]")
	h.Remove(1006)
	fmt.Println("  REMOVE 1006")
	if _, ok := h.Find(1006); !ok {
		fmt.Println("  FIND 1006 -> not found (as expected)")
	}

	stats := h.Stats()
	fmt.Println("\n[Statistics]")
	fmt.Printf("  Keys:         %d\n", stats.NumKeys)
	fmt.Printf("  Global depth: %d\n", stats.GlobalDepth)
	fmt.Printf("  Buckets:      %d\n", stats.NumBuckets)
}

func demoBPlusTree() {
	fmt.Println("\n### B+ Tree Demo ###")
	fmt.Println(strings.Repeat("-", 40))

	bpm := buffer.NewManager(64, nil)
	tree, err := bptree.NewTree("demo-index", bpm, bptree.ByteComparator)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✓ Created B+ tree index over a 64-frame buffer pool")

	fmt.Println("\n[Writing data]")
	for i := int64(1); i <= 20; i++ {
		k := bptree.NewGenericKeyFromInt64(i)
		v := common.RID{PageID: common.PageID(i), Slot: uint32(i)}
		if ok, err := tree.Insert(k, v); err != nil {
			log.Fatal(err)
		} else if ok {
			fmt.Printf("  INSERT %d\n", i)
		}
	}

	fmt.Println("\n[Range scan from key 5]")
	it, err := tree.BeginAt(bptree.NewGenericKeyFromInt64(5))
	if err != nil {
		log.Fatal(err)
	}
	for !it.IsEnd() {
		fmt.Printf("  %d -> %+v\n", it.Key().Int64(), it.Value())
		if err := it.Next(); err != nil {
			log.Fatal(err)
		}
	}
	if err := it.Close(); err != nil {
		log.Fatal(err)
	}

	fmt.Println("\n[Deleting data]")
	for i := int64(1); i <= 10; i++ {
		if err := tree.Remove(bptree.NewGenericKeyFromInt64(i)); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println("  REMOVE 1..10")

	fmt.Println("\n[Statistics / integrity check]")
	res, err := tree.Check()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  OK:               %v\n", res.OK)
	fmt.Printf("  Size/order OK:    %v\n", res.SizeOrOrderOK)
	fmt.Printf("  Balanced:         %v\n", res.BalancedOK)
	fmt.Printf("  All pages unpinned: %v\n", res.AllUnpinnedOK)
	for _, v := range res.Violations {
		fmt.Println("  VIOLATION:", v)
	}

	stats, err := tree.Stats()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  Keys:             %d\n", stats.NumKeys)
	fmt.Printf("  Pages:            %d\n", stats.NumPages)
	fmt.Printf("  Height:           %d\n", stats.Height)
	fmt.Printf("  Root page:        %d\n", stats.RootPage)

	if err := bpm.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("\n✓ Buffer pool closed")
}
