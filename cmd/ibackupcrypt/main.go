// Command ibackupcrypt decrypts an encrypted mobile-device backup
// directory: list and extract files by relative path or pattern.
package main

import "github.com/loftwing/ibackupcrypt/cmd"

func main() {
	cmd.Execute()
}
