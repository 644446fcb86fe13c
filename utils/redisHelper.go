package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// get type name of struct
func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// Read-mostly types are safe to cache with a TTL. Stock-bearing types are
// never cached: their quantities change under row locks, not through here.
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Recipe":   true,
		"Location": true,
	}
	return expirableTypes[typeName]
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	if !typeHasExpiration(typeName) {
		return nil
	}
	key := typeName + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// retrieve instance by id, nil when absent
func RetrieveRedis[T any](id int) (*T, error) {
	typeName := GetTypeName[T]()
	if !typeHasExpiration(typeName) {
		return nil, nil
	}
	key := typeName + ":" + fmt.Sprint(id)
	var result T
	found, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &result, nil
}

// drop cached instance (call after update/delete)
func RemoveRedis[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}
