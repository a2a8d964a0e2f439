// Command aiqa runs the trace ingestion backend.
package main

func main() {
	Execute()
}
