// Package broker provides the pub/sub transport that carries fire-and-forget
// broadcasts to every worker process.
//
// Exactly one backend is active per deployment, selected by mode:
//
//   - local: ZeroMQ PUB/SUB through a leader-side XSUB/XPUB proxy
//   - redis: Redis PUBLISH/SUBSCRIBE on one channel
//   - gossip: memberlist reliable messages, for hosts without a broker
//   - memory: in-process hub, for tests and single-process deployments
//
// Every message is a msgpack Packet stamped with the sender id. Payloads
// above a threshold are s2-compressed. Delivery is at-most-once: publish,
// decode and queue-overflow failures are logged and the message is dropped.
// Every backend delivers a message to the publishing process as well.
package broker
