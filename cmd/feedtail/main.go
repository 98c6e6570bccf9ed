// feedtail attaches to one conversation on a feed server, prints the merged
// message feed as it changes and sends every line typed on stdin.
package main

func main() {
	Execute()
}
