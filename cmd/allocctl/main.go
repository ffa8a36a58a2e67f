// Command allocctl inspects and benchmarks the allockit allocator.
package main

func main() {
	execute()
}
