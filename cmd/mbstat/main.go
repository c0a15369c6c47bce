// Command mbstat exercises an mbpool allocator and reports its counters.
package main

func main() {
	execute()
}
