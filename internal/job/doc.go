// Package job runs metafield link audits: it resolves the candidate products,
// verifies their links batch by batch, applies the configured broken-link
// action and reports progress with a resume token after every batch.
package job
