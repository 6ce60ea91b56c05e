// Package memory implements the scoped, multi-tenant memory store.
//
// Records are short natural-language texts tagged with a type and a scope
// (global / project / task), embedded once at creation, and partitioned per
// user: every read and write path goes through a filter whose first
// predicate is the owner, so no operation can cross user boundaries.
//
// Architecture:
//   - index.Index: vector storage backend (Qdrant remote, chromem embedded)
//   - Embedder: text-to-vector conversion (fastembed/onnx local, OpenAI or
//     Ollama remote, mock for tests)
//   - Repository: record lifecycle (store, fetch, link, soft-delete,
//     entity bookkeeping)
//
// Hierarchical retrieval (merging global- and project-scoped similarity
// results into one ranked list) lives one level up in the engine package.
package memory
