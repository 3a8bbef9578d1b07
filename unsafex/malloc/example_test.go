package malloc

import (
	"fmt"

	"github.com/cloudwego/memkit/alloc"
)

func Example() {
	buddy, _ := NewBuddyAllocator(make([]byte, 512*1024))

	// through alloc.Allocator, sizes are rounded up to a power-of-two block
	var a alloc.Allocator = buddy
	small, _ := a.Allocate(alloc.Layout{Size: 1024, Align: 8})
	large, _ := a.Allocate(alloc.Layout{Size: 8192, Align: 8}) // header pushes it to 16KB
	fmt.Printf("small: len=%d cap=%d\n", len(small), cap(small))
	fmt.Printf("large: len=%d cap=%d\n", len(large), cap(large))

	grown, _ := a.Grow(small, alloc.Layout{Size: 1024, Align: 8}, alloc.Layout{Size: 4096, Align: 8})
	fmt.Println("grown in place:", &grown[0] == &small[0])

	a.Deallocate(grown, alloc.Layout{Size: 4096, Align: 8})
	a.Deallocate(large, alloc.Layout{Size: 8192, Align: 8})
	fmt.Println("available:", buddy.Available())

	// Output:
	// small: len=1024 cap=8184
	// large: len=8192 cap=16376
	// grown in place: true
	// available: 524232
}

func ExampleFixedAllocator() {
	a := NewFixedAllocator(make([]byte, 64))

	l := alloc.Layout{Size: 16, Align: 8}
	b1, _ := a.Allocate(l)
	b2, _ := a.Allocate(l)
	fmt.Println("used:", a.Used())

	// only the most recent allocation is reclaimed
	a.Deallocate(b1, l)
	fmt.Println("used:", a.Used())
	a.Deallocate(b2, l)
	fmt.Println("used:", a.Used())

	// Output:
	// used: 32
	// used: 32
	// used: 16
}
