// Lapse - expiration control for EC2 instances.
// Tag it. Let it lapse.
package main

func main() {
	Execute()
}
