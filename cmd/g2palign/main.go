// Command g2palign aligns speech recordings with their transcripts and labels
// the result in the orthography or IPA of the input language.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
