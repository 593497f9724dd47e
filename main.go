// Command proxywhirl runs the ProxyWhirl HTTP proxy rotation engine.
package main

import "github.com/wyattowalsh/proxywhirl/cmd"

func main() {
	cmd.Execute()
}
