package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
)

func main() {
	port := "19999"
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Printf("\n=== %s %s ===\n", r.Method, r.URL.Path)

		// Sort headers for readability
		var keys []string
		for k := range r.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			for _, v := range r.Header[k] {
				display := v
				if len(display) > 120 {
					display = display[:120] + "..."
				}
				fmt.Printf("  %s: %s\n", k, display)
			}
		}

		// Read body size
		body, _ := io.ReadAll(r.Body)
		fmt.Printf("  [Body: %d bytes]\n", len(body))

		// Return a fake OpenAI-style completion so the client doesn't hang
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"chatcmpl-capture","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"header capture done"},"finish_reason":"stop"}],"model":"capture","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	fmt.Printf("Header capture server listening on :%s\n", port)
	fmt.Printf("Set LLAMA_CPP_BASE_URL=http://localhost:%s to capture headers sent to the upstream\n", port)
	fmt.Println(strings.Repeat("-", 60))
	http.ListenAndServe(":"+port, nil)
}
