// Command gensecret prints a random hex-encoded key suitable for SECRET_KEY.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

const defaultKeyBytesLen = 32

func main() {
	byteLen := defaultKeyBytesLen

	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "usage: gensecret [bytes]\n")
			os.Exit(2)
		}
		byteLen = n
	}

	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
