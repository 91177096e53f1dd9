// Package redisadapter relays namespace broadcasts between kissio servers
// over Redis Pub/Sub. Each server delivers to its own sockets and publishes
// the broadcast for the others.
package redisadapter
