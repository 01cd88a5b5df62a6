/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package blob

import "fmt"

// ParsedTextKey is the raw UTF-8 parsed-text blob, line endings normalized to "\n".
func ParsedTextKey(tenant, session, doc string) string {
	return fmt.Sprintf("parsed/%s/%s/%s/text.txt", tenant, session, doc)
}

// OffsetsKey is the character→byte checkpoint index for a document.
func OffsetsKey(tenant, session, doc string) string {
	return fmt.Sprintf("parsed/%s/%s/%s/offsets.json", tenant, session, doc)
}

// MetaKey is a document's parser metadata blob.
func MetaKey(tenant, session, doc string) string {
	return fmt.Sprintf("parsed/%s/%s/%s/meta.json", tenant, session, doc)
}

// StateKey is the offloaded-state blob for one turn of one execution.
func StateKey(tenant, execution string, turnIndex int) string {
	return fmt.Sprintf("state/%s/%s/state_%d.json.gz", tenant, execution, turnIndex)
}

// LLMCacheKey is the content-addressed sub-completion cache entry.
func LLMCacheKey(prefix, tenant, digest string) string {
	return fmt.Sprintf("%s/%s/llm/%s.json", prefix, tenant, digest)
}

// SearchCacheKey is the content-addressed search cache entry.
func SearchCacheKey(prefix, tenant, digest string) string {
	return fmt.Sprintf("%s/%s/search/%s.json", prefix, tenant, digest)
}

// TraceKey is the gzipped turn-indexed trace artifact for an execution.
func TraceKey(tenant, execution string) string {
	return fmt.Sprintf("traces/%s/%s/trace.json.gz", tenant, execution)
}
