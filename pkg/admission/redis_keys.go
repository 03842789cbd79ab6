package admission

// Redis key naming for admission data. All keys share a configurable
// prefix to avoid collisions with other subsystems on the same instance.

const defaultKeyPrefix = "admitq:"

// requestKey returns the Hash key for a request record: admitq:request:{id}
func (s *RedisStore) requestKey(id string) string {
	return s.keyPrefix + "request:" + id
}

// queueKey returns the Sorted Set key for a tenant's queue: admitq:queue:{tenant}
func (s *RedisStore) queueKey(tenantID string) string {
	return s.keyPrefix + "queue:" + tenantID
}

// tenantsKey is the Set tracking tenants with pending work.
func (s *RedisStore) tenantsKey() string {
	return s.keyPrefix + "tenants"
}
