/*
Package sessionstate keeps distributed web sessions correct across deployments.

It sits between a host's session pipeline and a remote key/lock session store and adds
three guarantees the store cannot give on its own:

  - Version isolation: every write is tagged with the running build's version. A read that
    finds a payload tagged by another version (or not tagged at all) gets it cleared, both in
    the returned result and in the store.
  - Lock awareness: clearing a stale payload is safe whether or not the caller already holds
    the session's exclusive lock. A reader that loses the lock race returns the stale data
    once instead of waiting.
  - Session end events: stores such as Redis expire keys silently. A local sliding-window
    predictor notices idle sessions, confirms with the store, deletes the record and publishes
    its final snapshot on Provider.Expirations.

# Usage

	store := redis.New("localhost:6379", "", 0, redis.WithGrace(2*time.Second))

	provider, err := sessionstate.New(store,
		sessionstate.WithVersionSource(versioning.Fixed("2024.06.1")),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer provider.Close()

	go func() {
		for ended := range provider.Expirations() {
			log.Printf("session %s ended", ended.ID)
		}
	}()

	res, err := provider.GetItemExclusive(ctx, "abc")
	if err != nil {
		log.Fatal(err)
	}
	if res.Locked {
		// Another request owns the session.
		return
	}
	newItem := res.Record == nil
	if newItem {
		res.Record = provider.CreateNewStoreData(0)
	}
	res.Record.Items.Set("cart", []string{"sku-1"})
	err = provider.SetAndReleaseItemExclusive(ctx, "abc", res.Record, res.LockID, newItem)

Hosts that load settings from files or attribute maps use NewFromConfig with pkg/config.
*/
package sessionstate
