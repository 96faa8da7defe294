package memberlist

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// ListIDFor derives the list id of a channel from its read-affecting
// permission overwrites. Channels whose default role can read and that
// carry no overwrite touching read access share the "everyone" sentinel;
// every other topology hashes the sorted set of affecting overwrite ids,
// so channels with identical overwrite sets share one id and one cached
// computation.
func ListIDFor(guild *domain.Guild, channel *domain.Channel) domain.ListID {
	var affecting []string
	for _, o := range channel.Overwrites {
		if o.AffectsRead() {
			affecting = append(affecting, string(o.ID))
		}
	}

	everyone := guild.EveryoneRole()
	if len(affecting) == 0 && everyone != nil && everyone.Permissions&domain.PermissionReadMessages != 0 {
		return domain.ListIDEveryone
	}

	sort.Strings(affecting)
	h := fnv.New64a()
	for _, id := range affecting {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return domain.ListID(strconv.FormatUint(h.Sum64(), 10))
}
