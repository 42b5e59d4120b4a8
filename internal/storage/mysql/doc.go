// Package mysql opens pooled MySQL connections and applies the embedded schema
// migrations shared by the conversation memory and task state stores.
package mysql
