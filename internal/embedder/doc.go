// Package embedder generates vector embeddings for protocol windows.
//
// Four providers share the Embedder interface:
//   - local: offline feature hashing of unigrams and bigrams (default)
//   - ollama: a local Ollama server's /api/embed endpoint
//   - openai and jina: OpenAI-compatible /v1/embeddings endpoints
//
// Every provider returns unit-length vectors, caches by model and text,
// and retries transient HTTP failures with exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.EmbedAll(ctx, emb, texts, 32, 4)
//
// EmbedAll runs batches concurrently and writes each vector at its input
// position, so callers can zip results with their inputs.
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. If PROTOCOLQA_EMBEDDING_PROVIDER is set, use it
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else use the local provider
//
// # Identity
//
// A bundle records the Identity (provider, model, dimension) it was built
// with. Vectors from a different identity are not comparable, so loading a
// bundle with a mismatched embedder fails.
package embedder
