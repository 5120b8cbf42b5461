// Package redis implements store.Store on Redis.
//
// Every conditional write (counter increments, pointer moves, message
// consume/ack/update, definition status changes and role locks) runs as a
// Lua script so the check and the write happen atomically on the server.
// Message rows and definitions are Hashes; pointers of one queue version
// share a Hash; DLQ entries and members follow the entity-hash plus ID-set
// layout. The event bus is a Pub/Sub channel.
//
// The caller owns the client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
